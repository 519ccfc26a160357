// Package manager resolves DataProxy endpoints through the InLong
// Manager getIpList API.
package manager

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/songhahaha66/inlong/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config configures the manager resolver.
type Config struct {
	// URL is the getIpList base; the group id is appended as a path
	// segment.
	URL string

	// Protocol is sent as protocolType, "tcp" or "http".
	Protocol string

	NeedAuth bool
	AuthID   string
	AuthKey  string
}

// Resolver queries the manager once per group id concurrently and merges
// the answers.
type Resolver struct {
	cfg    Config
	client ports.HTTPClient
}

var _ ports.Resolver = (*Resolver)(nil)

// NewResolver creates a manager resolver.
func NewResolver(cfg Config, client ports.HTTPClient) *Resolver {
	if cfg.Protocol == "" {
		cfg.Protocol = "tcp"
	}
	return &Resolver{cfg: cfg, client: client}
}

type node struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

type ipListResponse struct {
	Success bool   `json:"success"`
	ErrMsg  string `json:"errMsg"`
	Data    struct {
		NodeList []node `json:"nodeList"`
	} `json:"data"`
}

// Resolve returns the union of the endpoints of all groups in the order
// the manager listed them. Any failing group fails the whole call.
func (r *Resolver) Resolve(ctx context.Context, groupIDs []string) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, fmt.Errorf("no group ids to resolve")
	}

	results := make([][]string, len(groupIDs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, gid := range groupIDs {
		eg.Go(func() error {
			addrs, err := r.resolveGroup(ctx, gid)
			if err != nil {
				return fmt.Errorf("group %s: %w", gid, err)
			}
			results[i] = addrs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []string
	seen := make(map[string]struct{})
	for _, addrs := range results {
		for _, a := range addrs {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *Resolver) resolveGroup(ctx context.Context, groupID string) ([]string, error) {
	form := url.Values{}
	form.Set("protocolType", r.cfg.Protocol)

	endpoint := strings.TrimRight(r.cfg.URL, "/") + "/" + url.PathEscape(groupID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if r.cfg.NeedAuth {
		req.SetBasicAuth(r.cfg.AuthID, r.cfg.AuthKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("manager returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed ipListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("manager error: %s", parsed.ErrMsg)
	}

	addrs := make([]string, 0, len(parsed.Data.NodeList))
	for _, n := range parsed.Data.NodeList {
		if n.IP == "" || n.Port <= 0 {
			continue
		}
		addrs = append(addrs, net.JoinHostPort(n.IP, strconv.Itoa(n.Port)))
	}
	return addrs, nil
}
