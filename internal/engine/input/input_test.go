package input

import (
	"testing"

	"github.com/veandco/go-sdl2/sdl"
)

func key(typ uint32, code sdl.Scancode) *sdl.KeyboardEvent {
	return &sdl.KeyboardEvent{Type: typ, Keysym: sdl.Keysym{Scancode: code}}
}

func TestHeldKeys(t *testing.T) {
	in := New()

	in.handle(key(sdl.KEYDOWN, sdl.SCANCODE_W))
	in.handle(key(sdl.KEYDOWN, sdl.SCANCODE_D))

	if !in.IsKeyDown(sdl.SCANCODE_W) || !in.IsKeyPressed(sdl.SCANCODE_W) {
		t.Error("W should be down and pressed")
	}
	if got := in.Axis(sdl.SCANCODE_W, sdl.SCANCODE_S); got != 1 {
		t.Errorf("Axis(W, S) = %v, want 1", got)
	}
	if got := in.Axis(sdl.SCANCODE_A, sdl.SCANCODE_D); got != -1 {
		t.Errorf("Axis(A, D) = %v, want -1", got)
	}

	in.handle(key(sdl.KEYUP, sdl.SCANCODE_W))
	if in.IsKeyDown(sdl.SCANCODE_W) {
		t.Error("W still held after key up")
	}
	if got := in.Axis(sdl.SCANCODE_W, sdl.SCANCODE_S); got != 0 {
		t.Errorf("Axis(W, S) = %v, want 0", got)
	}
}

func TestKeyRepeatIgnored(t *testing.T) {
	in := New()

	repeat := key(sdl.KEYDOWN, sdl.SCANCODE_R)
	repeat.Repeat = 1
	in.handle(repeat)

	if in.IsKeyPressed(sdl.SCANCODE_R) || len(in.Events()) != 0 {
		t.Error("repeated key produced an event")
	}
}

func TestMouseDelta(t *testing.T) {
	in := New()

	in.handle(&sdl.MouseMotionEvent{XRel: 3, YRel: -2})
	in.handle(&sdl.MouseMotionEvent{XRel: 4, YRel: 1})

	if dx, dy := in.MouseDelta(); dx != 7 || dy != -1 {
		t.Errorf("MouseDelta() = %d, %d, want 7, -1", dx, dy)
	}
}

func TestWindowAndMouseEvents(t *testing.T) {
	in := New()

	in.handle(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_SIZE_CHANGED, Data1: 800, Data2: 600})
	in.handle(&sdl.MouseButtonEvent{Type: sdl.MOUSEBUTTONDOWN, Button: sdl.BUTTON_LEFT, X: 5, Y: 6})
	in.handle(&sdl.QuitEvent{})

	events := in.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != EventWindowResize || events[0].Width != 800 || events[0].Height != 600 {
		t.Errorf("unexpected resize event %+v", events[0])
	}
	if events[1].Type != EventMouseDown || events[1].Button != sdl.BUTTON_LEFT || events[1].MouseX != 5 {
		t.Errorf("unexpected mouse event %+v", events[1])
	}
	if events[2].Type != EventQuit {
		t.Errorf("unexpected event %+v", events[2])
	}
}
