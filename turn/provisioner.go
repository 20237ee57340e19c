// Package turn provisions ICE server credentials for the /turn-credentials
// HTTP endpoint, spec.md §6. No library in the corpus speaks to a
// third-party TURN credential provider, so this package uses the standard
// library's net/http.Client for the one outbound call it needs to make;
// see DESIGN.md for why no ecosystem HTTP client was wired in here instead.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"webrtc-broadcast-core/config"
)

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Seconds()))
}

// ICEServer mirrors the RTCIceServer shape the /turn-credentials response
// sends to clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Provisioner resolves ICE servers from static config and/or a dynamic
// third-party provider, per spec.md §6: "If both are present, dynamic takes
// priority."
type Provisioner struct {
	static  config.StaticTURN
	dynamic config.DynamicTURN
	client  *http.Client
}

// New builds a Provisioner from the process's loaded TURN configuration.
func New(conf *config.ServerConfig) *Provisioner {
	return &Provisioner{
		static:  conf.StaticTURN,
		dynamic: conf.DynamicTURN,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Credentials returns the ICE server list to hand to a client. On any
// dynamic-provider failure it degrades to STUN-only (or the static
// server, if configured) rather than returning an error, per spec.md §6:
// "the server returns STUN-only servers and HTTP 200 (degraded but
// usable)."
func (p *Provisioner) Credentials(ctx context.Context) []ICEServer {
	if p.dynamic.Enabled() {
		if servers, err := p.fetchDynamic(ctx); err == nil {
			return servers
		} else {
			log.Printf("turn: dynamic provider fetch failed, falling back to static or STUN-only servers: %v", err)
		}
	}

	if p.static.URL != "" {
		return []ICEServer{{
			URLs:       []string{p.static.URL},
			Username:   p.static.Username,
			Credential: p.static.Password,
		}}
	}

	return []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// providerResponse tolerates both documented third-party response shapes
// (spec.md §9: "urls as string" and "urls as list"), via rawURLs.
type providerResponse struct {
	ICEServers []struct {
		URLs       rawURLs `json:"urls"`
		Username   string  `json:"username"`
		Credential string  `json:"credential"`
	} `json:"iceServers"`
}

// rawURLs unmarshals either a bare JSON string or a JSON array of strings
// into a []string, per spec.md §9's "Credential-endpoint response shape
// differs between versions" note.
type rawURLs []string

func (u *rawURLs) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*u = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*u = list
	return nil
}

func (p *Provisioner) fetchDynamic(ctx context.Context) ([]ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.dynamic.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.dynamic.APIToken)
	req.Header.Set("X-Turn-Key-Id", p.dynamic.KeyID)
	q := req.URL.Query()
	q.Set("ttl", formatSeconds(p.dynamic.TTL))
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("turn provider returned status %d", resp.StatusCode)
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	servers := make([]ICEServer, 0, len(parsed.ICEServers))
	for _, s := range parsed.ICEServers {
		servers = append(servers, ICEServer{
			URLs:       []string(s.URLs),
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("turn provider returned no ice servers")
	}
	return servers, nil
}
