package megatexture

import (
	"github.com/Faultbox/megatex/pkg/math"
)

// MaxVertexWindow is the number of vertices one OpVertices command may load.
const MaxVertexWindow = 32

// Op identifies a draw command.
type Op uint8

const (
	OpNop Op = iota
	// OpProjection replaces the projection matrix.
	OpProjection
	// OpVertices loads Count vertices of Mesh starting at Start into the
	// vertex window.
	OpVertices
	// OpTile binds a cached tile for the triangles that follow.
	OpTile
	// OpTriangles draws two triangles from window-relative indices.
	OpTriangles
	// OpTriangle draws one triangle from the first three indices.
	OpTriangle
)

var opNames = [...]string{"nop", "projection", "vertices", "tile", "triangles", "triangle"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// Command is one entry in a command stream. Only the fields used by Op are
// meaningful.
type Command struct {
	Op Op

	Projection math.Mat4

	Mesh         *MeshLayer
	Start, Count int

	Tile TileRef
	Lod  int // LOD of the geometry drawn with Tile

	Indices [6]uint8
}

// CommandBuffer is a bounded append-only command stream.
type CommandBuffer interface {
	// Request reports whether n more commands fit.
	Request(n int) bool
	// Push appends a command and returns its position.
	Push(cmd Command) int
	// Set replaces an already pushed command.
	Set(i int, cmd Command)
}

// DisplayList is a CommandBuffer backed by a fixed-length slice.
type DisplayList struct {
	commands []Command
}

// NewDisplayList creates a display list holding at most length commands.
func NewDisplayList(length int) *DisplayList {
	return &DisplayList{commands: make([]Command, 0, length)}
}

func (d *DisplayList) Request(n int) bool {
	return len(d.commands)+n <= cap(d.commands)
}

// Push appends cmd. Callers must Request room first.
func (d *DisplayList) Push(cmd Command) int {
	if len(d.commands) == cap(d.commands) {
		panic("megatexture: display list overflow")
	}
	d.commands = append(d.commands, cmd)
	return len(d.commands) - 1
}

func (d *DisplayList) Set(i int, cmd Command) {
	d.commands[i] = cmd
}

// Commands returns the recorded commands.
func (d *DisplayList) Commands() []Command {
	return d.commands
}

// Len returns the number of recorded commands.
func (d *DisplayList) Len() int {
	return len(d.commands)
}

// Cap returns the maximum number of commands.
func (d *DisplayList) Cap() int {
	return cap(d.commands)
}

// Reset empties the list for the next frame.
func (d *DisplayList) Reset() {
	d.commands = d.commands[:0]
}
