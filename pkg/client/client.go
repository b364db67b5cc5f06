package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arborfs/arbor/pkg/types"
)

// Client is a websocket client for the arbor protocol. One Client is
// one server session: it carries the session's root, expansion set and
// delta stream.
type Client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan types.Response
	err     error

	deltas chan types.Delta
	done   chan struct{}
}

// ErrClosed is returned by calls made after the connection ended.
var ErrClosed = errors.New("client: connection closed")

// Dial connects to an arbor server. baseURL is the HTTP address of the
// server, e.g. "http://localhost:7388".
func Dial(ctx context.Context, baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[uint64]chan types.Response),
		deltas:  make(chan types.Delta, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Deltas is the stream of server pushes. The channel closes when the
// connection ends.
func (c *Client) Deltas() <-chan types.Delta { return c.deltas }

// Close tears down the connection. In-flight calls fail with ErrClosed.
func (c *Client) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClosed
		}
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.deltas)
		close(c.done)
	}()

	for {
		var resp types.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("read frame: %w", err)
			c.mu.Unlock()
			return
		}
		if resp.Type == types.PushDelta {
			if resp.Delta != nil {
				select {
				case c.deltas <- *resp.Delta:
				default: // consumer is behind, drop the push
				}
			}
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}
}

// call sends one request and waits for the matching response.
func (c *Client) call(ctx context.Context, req types.Request) (types.Response, error) {
	ch := make(chan types.Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return types.Response{}, err
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	err := c.conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return types.Response{}, fmt.Errorf("write frame: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return types.Response{}, ErrClosed
		}
		if resp.Type == types.RespError {
			return resp, &Error{Code: resp.Code, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return types.Response{}, ctx.Err()
	}
}

// Error is a protocol-level failure reported by the server.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Message)
}

// Hello negotiates the session view and returns the initial snapshot.
// root may be empty to accept the server's default.
func (c *Client) Hello(ctx context.Context, root string, showHidden *bool) (string, []types.EntryInfo, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqHello, Root: root, ShowHidden: showHidden})
	if err != nil {
		return "", nil, err
	}
	return resp.Root, resp.Entries, nil
}

// Expand loads a directory and subscribes the session to its changes.
func (c *Client) Expand(ctx context.Context, path string) ([]types.EntryInfo, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqExpand, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Collapse unsubscribes the session from a directory.
func (c *Client) Collapse(ctx context.Context, path string) error {
	_, err := c.call(ctx, types.Request{Type: types.ReqCollapse, Path: path})
	return err
}

// ChangeRoot repositions the session on a new root directory.
func (c *Client) ChangeRoot(ctx context.Context, path string) (string, []types.EntryInfo, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqChangeRoot, Path: path})
	if err != nil {
		return "", nil, err
	}
	return resp.Root, resp.Entries, nil
}

// Refresh rescans every observed directory and returns a fresh snapshot.
func (c *Client) Refresh(ctx context.Context) ([]types.EntryInfo, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqRefresh})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Do runs a file operation and returns the per-path outcomes. A nil
// error does not mean every path succeeded; check the results.
func (c *Client) Do(ctx context.Context, op types.Op) ([]types.PathResult, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqOp, Op: &op})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Select adds paths to the session selection.
func (c *Client) Select(ctx context.Context, paths ...string) error {
	_, err := c.call(ctx, types.Request{Type: types.ReqSelect, Paths: paths})
	return err
}

// Deselect removes paths from the session selection.
func (c *Client) Deselect(ctx context.Context, paths ...string) error {
	_, err := c.call(ctx, types.Request{Type: types.ReqDeselect, Paths: paths})
	return err
}

// Copy places paths (or the current selection, when empty) on the
// shared clipboard in copy mode.
func (c *Client) Copy(ctx context.Context, paths ...string) error {
	_, err := c.call(ctx, types.Request{Type: types.ReqCopy, Paths: paths})
	return err
}

// Cut places paths (or the current selection, when empty) on the
// shared clipboard in cut mode.
func (c *Client) Cut(ctx context.Context, paths ...string) error {
	_, err := c.call(ctx, types.Request{Type: types.ReqCut, Paths: paths})
	return err
}

// Paste materializes the clipboard into dest.
func (c *Client) Paste(ctx context.Context, dest string) ([]types.PathResult, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqPaste, Dest: dest})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Clipboard reports the shared clipboard contents and mode.
func (c *Client) Clipboard(ctx context.Context) ([]string, string, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqClipboard})
	if err != nil {
		return nil, "", err
	}
	return resp.Paths, resp.Mode, nil
}

// Search matches visible entry names against query.
func (c *Client) Search(ctx context.Context, query string, exact bool) ([]string, error) {
	resp, err := c.call(ctx, types.Request{Type: types.ReqSearch, Query: query, Exact: exact})
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}
