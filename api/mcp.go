package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pubwatch/catalog"
	"github.com/hazyhaar/pubwatch/kit"
)

// RegisterMCP registers the catalog read tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerAdsList(srv)
	s.registerAdsGet(srv)
	s.registerAdsStats(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// instrument logs failed tool calls with the request metadata the
// transport put on the context.
func (s *Service) instrument(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			if err != nil {
				s.logger.Warn("tool call failed",
					"tool", tool,
					"transport", kit.GetTransport(ctx),
					"account_id", kit.GetAccountID(ctx),
					"error", err)
			}
			return resp, err
		}
	}
}

func (s *Service) registerAdsList(srv *mcp.Server) {
	type req struct {
		AccountID    string `json:"account_id"`
		CompetitorID string `json:"competitor_id"`
		Platform     string `json:"platform"`
		PageSize     int    `json:"page_size"`
		DateFrom     string `json:"date_from"`
		DateTo       string `json:"date_to"`
		Cursor       string `json:"cursor"`
	}

	tool := &mcp.Tool{
		Name:        "ads_list",
		Description: "List stored competitor ad creatives for an account, newest first, with cursor pagination",
		InputSchema: inputSchema(map[string]any{
			"account_id":    map[string]any{"type": "string", "description": "Account ID"},
			"competitor_id": map[string]any{"type": "string", "description": "Restrict to one competitor"},
			"platform":      map[string]any{"type": "string", "description": "Platform: meta, google, tiktok"},
			"page_size":     map[string]any{"type": "integer", "description": "Page size, 1-100, default 24"},
			"date_from":     map[string]any{"type": "string", "description": "Inclusive lower bound, RFC 3339 or YYYY-MM-DD"},
			"date_to":       map[string]any{"type": "string", "description": "Inclusive upper bound, RFC 3339 or YYYY-MM-DD"},
			"cursor":        map[string]any{"type": "string", "description": "Cursor from a previous page"},
		}, []string{"account_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.AccountID == "" {
			return nil, fmt.Errorf("account_id is required")
		}
		filter := catalog.ListFilter{
			AccountID:    p.AccountID,
			CompetitorID: p.CompetitorID,
		}
		if p.Platform != "" {
			platform := catalog.Platform(p.Platform)
			if !catalog.ValidPlatform(platform) {
				return nil, fmt.Errorf("unsupported platform %q", p.Platform)
			}
			filter.Platform = platform
		}
		var err error
		if filter.DateFrom, err = parseOptionalDate(p.DateFrom, false); err != nil {
			return nil, fmt.Errorf("date_from: %w", err)
		}
		if filter.DateTo, err = parseOptionalDate(p.DateTo, true); err != nil {
			return nil, fmt.Errorf("date_to: %w", err)
		}
		pageSize := p.PageSize
		if pageSize < 1 || pageSize > maxPageSize {
			pageSize = defaultPageSize
		}
		return s.store.List(ctx, filter, catalog.DecodeCursor(p.Cursor), pageSize)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request: &p,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithAccountID(ctx, p.AccountID)
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.instrument("ads_list"))(endpoint), decode)
}

func (s *Service) registerAdsGet(srv *mcp.Server) {
	type req struct {
		AdID string `json:"ad_id"`
	}

	tool := &mcp.Tool{
		Name:        "ads_get",
		Description: "Get one stored ad creative with its landing-page signals",
		InputSchema: inputSchema(map[string]any{
			"ad_id": map[string]any{"type": "string", "description": "Creative ID (UUID)"},
		}, []string{"ad_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		ad, err := s.store.GetByID(ctx, p.AdID)
		if err != nil {
			return nil, err
		}
		if ad == nil {
			return nil, fmt.Errorf("ad %s not found", p.AdID)
		}
		return ad, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.instrument("ads_get"))(endpoint), decode)
}

func (s *Service) registerAdsStats(srv *mcp.Server) {
	type req struct {
		AccountID string `json:"account_id"`
	}

	tool := &mcp.Tool{
		Name:        "ads_stats",
		Description: "Aggregate catalog stats for an account: totals, snapshot coverage, per-platform counts",
		InputSchema: inputSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Account ID"},
		}, []string{"account_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.AccountID == "" {
			return nil, fmt.Errorf("account_id is required")
		}
		return s.store.Stats(ctx, p.AccountID)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request: &p,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithAccountID(ctx, p.AccountID)
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.instrument("ads_stats"))(endpoint), decode)
}

func parseOptionalDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return parseDate(raw, endOfDay)
}
