package harmonyClient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyHbus"
)

const hubOrigin = "http://sl.dhg.myharmony.com"

// HubIdentity routes the WebSocket session to the hub's active remote.
type HubIdentity struct {
	RemoteId        string
	DiscoveryDomain string
}

type provisionRequest struct {
	Id     int            `json:"id"`
	Cmd    string         `json:"cmd"`
	Params map[string]any `json:"params"`
}

type provisionInfo struct {
	Data struct {
		ActiveRemoteId  json.RawMessage `json:"activeRemoteId"`
		DiscoveryServer string          `json:"discoveryServer"`
	} `json:"data"`
}

// ResolveIdentity asks the hub at hubAddr (host:port) for its provisioning
// info. It has no side effects and can be retried.
func ResolveIdentity(ctx context.Context, client *http.Client, hubAddr string) (HubIdentity, error) {
	payload, err := json.Marshal(provisionRequest{Id: 1, Cmd: harmonyHbus.CmdProvisionInfo, Params: map[string]any{}})
	if err != nil {
		return HubIdentity{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+hubAddr+"/", bytes.NewReader(payload))
	if err != nil {
		return HubIdentity{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Origin", hubOrigin)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Charset", "utf-8")

	res, err := client.Do(req)
	if err != nil {
		return HubIdentity{}, fmt.Errorf("%w: provision info: %v", ErrNetwork, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return HubIdentity{}, fmt.Errorf("%w: provision info: %v", ErrNetwork, err)
	}
	if res.StatusCode != http.StatusOK {
		return HubIdentity{}, fmt.Errorf("%w: provision info: unexpected status %s", ErrProtocol, res.Status)
	}
	return parseProvisionInfo(body)
}

func parseProvisionInfo(body []byte) (HubIdentity, error) {
	info := provisionInfo{}
	if err := json.Unmarshal(body, &info); err != nil {
		return HubIdentity{}, fmt.Errorf("%w: provision info: %v", ErrProtocol, err)
	}

	remoteId, ok := harmonyHbus.ScalarString(info.Data.ActiveRemoteId)
	if !ok {
		return HubIdentity{}, fmt.Errorf("%w: provision info without activeRemoteId", ErrProtocol)
	}
	if info.Data.DiscoveryServer == "" {
		return HubIdentity{}, fmt.Errorf("%w: provision info without discoveryServer", ErrProtocol)
	}
	u, err := url.Parse(info.Data.DiscoveryServer)
	if err != nil || u.Hostname() == "" {
		return HubIdentity{}, fmt.Errorf("%w: bad discoveryServer %q", ErrProtocol, info.Data.DiscoveryServer)
	}

	return HubIdentity{RemoteId: remoteId, DiscoveryDomain: u.Hostname()}, nil
}

// sessionURL builds the WebSocket address for an identity.
func sessionURL(hubAddr string, id HubIdentity) string {
	q := url.Values{}
	q.Set("domain", id.DiscoveryDomain)
	q.Set("hubId", id.RemoteId)
	u := url.URL{Scheme: "ws", Host: hubAddr, Path: "/", RawQuery: q.Encode()}
	return u.String()
}
