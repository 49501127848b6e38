// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package clisock

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/logging"
)

func testServer() *Server {
	s := NewServer("/tmp/unused-cli.sock", logging.New(io.Discard, logging.LevelError))
	s.Register("show-vpcs", func() (any, error) {
		return []map[string]any{{"name": "vpc-a", "vni": 100}}, nil
	})
	s.Register("show-sessions", func() (any, error) {
		return nil, gwerrors.New(gwerrors.KindUnavailable, "stateful nat not configured")
	})
	return s
}

func TestDispatchKnownCommand(t *testing.T) {
	s := testServer()
	resp := s.dispatch(&Request{Command: "show-vpcs"})
	require.Equal(t, "ok", resp.Status)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	require.Contains(t, string(raw), "vpc-a")
}

func TestDispatchHandlerError(t *testing.T) {
	s := testServer()
	resp := s.dispatch(&Request{Command: "show-sessions"})
	require.Equal(t, "error", resp.Status)
	require.Contains(t, resp.Error, "stateful nat")
}

func TestDispatchUnknownCommandListsKnown(t *testing.T) {
	s := testServer()
	resp := s.dispatch(&Request{Command: "bogus"})
	require.Equal(t, "error", resp.Status)
	data := resp.Data.(map[string]any)
	require.ElementsMatch(t, []string{"show-sessions", "show-vpcs"}, data["commands"])
}
