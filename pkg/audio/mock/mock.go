// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// Typical usage:
//
//	segs := make(chan audio.Segment, 4)
//	conn := &mock.Connection{SegmentsCh: segs}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "channel-42")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scrumscribe/pkg/audio"
)

// Connection is a mock implementation of [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// SegmentsCh is returned by Segments. Tests own it and close it when done;
	// Disconnect closes it if it is still open.
	SegmentsCh chan audio.Segment

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	callback  func(audio.Event)
	closeOnce sync.Once
}

// Segments returns SegmentsCh.
func (c *Connection) Segments() <-chan audio.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SegmentsCh
}

// OnParticipantChange stores cb.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// Emit invokes the registered callback, if any.
func (c *Connection) Emit(ev audio.Event) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// Disconnect records the call, closes SegmentsCh once, and returns
// DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	ch := c.SegmentsCh
	err := c.DisconnectError
	c.mu.Unlock()
	if ch != nil {
		c.closeOnce.Do(func() { close(ch) })
	}
	return err
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult and ConnectError are returned by Connect.
	ConnectResult audio.Connection
	ConnectError  error

	// ConnectCalls records every channel id passed to Connect.
	ConnectCalls []string
}

// Connect records the call and returns ConnectResult, ConnectError.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, channelID)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	return p.ConnectResult, nil
}

var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)
