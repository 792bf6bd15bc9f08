// Package edge runs on the device: the sensor scan loop, the uplink to the
// server, the heartbeat, and the local command API the server forwards
// control actions to. All hardware access goes through the interfaces here
// so the agent is testable without GPIO.
package edge

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"time"
)

// LineReader reads the raw binary state of a sensor line. A read failure is
// local and non-fatal: the sensor is marked degraded and no event is raised.
type LineReader interface {
	Read(ctx context.Context, sensorID string) (bool, error)
}

// CredentialSource delivers badge reads. Poll returns the card presented
// since the last call, if any; it never blocks.
type CredentialSource interface {
	Poll(ctx context.Context) (cardID string, ok bool, err error)
}

// Actuator drives the physical locks and the device itself.
type Actuator interface {
	LockDoor(ctx context.Context) error
	UnlockDoor(ctx context.Context) error
	LockWindow(ctx context.Context) error
	UnlockWindow(ctx context.Context) error
	Restart(ctx context.Context) error
}

// SimulatedHardware is an in-memory stand-in used in development and tests:
// lines can be forced, cards injected, lock state inspected.
type SimulatedHardware struct {
	mu           sync.Mutex
	lines        map[string]bool
	pendingCards []string
	DoorLocked   bool
	WindowLocked bool
	Restarted    bool
}

func NewSimulatedHardware() *SimulatedHardware {
	return &SimulatedHardware{lines: make(map[string]bool), DoorLocked: true, WindowLocked: true}
}

// SetLine forces a raw sensor line state.
func (h *SimulatedHardware) SetLine(sensorID string, high bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[sensorID] = high
}

// PresentCard queues a badge read for the next Poll.
func (h *SimulatedHardware) PresentCard(cardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingCards = append(h.pendingCards, cardID)
}

func (h *SimulatedHardware) Read(_ context.Context, sensorID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lines[sensorID], nil
}

func (h *SimulatedHardware) Poll(_ context.Context) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pendingCards) == 0 {
		return "", false, nil
	}
	card := h.pendingCards[0]
	h.pendingCards = h.pendingCards[1:]
	return card, true, nil
}

func (h *SimulatedHardware) LockDoor(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.DoorLocked = true
	return nil
}

func (h *SimulatedHardware) UnlockDoor(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.DoorLocked = false
	return nil
}

func (h *SimulatedHardware) LockWindow(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.WindowLocked = true
	return nil
}

func (h *SimulatedHardware) UnlockWindow(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.WindowLocked = false
	return nil
}

func (h *SimulatedHardware) Restart(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Restarted = true
	return nil
}

// Locks reports the current lock positions.
func (h *SimulatedHardware) Locks() (door, window bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.DoorLocked, h.WindowLocked
}

// SimulatedCamera encodes synthetic frames so the capture and upload path
// works end to end without camera hardware. Consecutive captures vary in
// shade so stored objects are distinguishable.
type SimulatedCamera struct {
	mu     sync.Mutex
	frames int
}

func NewSimulatedCamera() *SimulatedCamera { return &SimulatedCamera{} }

func (c *SimulatedCamera) CaptureImage(ctx context.Context) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	c.mu.Lock()
	c.frames++
	shade := uint8(40 + (c.frames%8)*20)
	c.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}

// RecordVideo emits one frame per second of requested duration. The
// concatenated-frame payload stands in for a real clip container.
func (c *SimulatedCamera) RecordVideo(ctx context.Context, d time.Duration) ([]byte, string, error) {
	frames := int(d / time.Second)
	if frames < 1 {
		frames = 1
	}
	var buf bytes.Buffer
	for i := 0; i < frames; i++ {
		data, _, err := c.CaptureImage(ctx)
		if err != nil {
			return nil, "", err
		}
		buf.Write(data)
	}
	return buf.Bytes(), "application/octet-stream", nil
}
