package renderer

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/engine/camera"
	"github.com/Faultbox/megatex/internal/engine/shader"
	"github.com/Faultbox/megatex/internal/megatexture"
)

const sinkVertexShader = `
#version 410 core

layout (location = 0) in vec3 aPos;
layout (location = 1) in vec2 aUV;

uniform mat4 uViewProj;

out vec2 vUV;

void main() {
	gl_Position = uViewProj * vec4(aPos, 1.0);
	vUV = aUV;
}
`

const sinkFragmentShader = `
#version 410 core

in vec2 vUV;
out vec4 FragColor;

uniform sampler2D uAtlas;

void main() {
	vec4 texel = texture(uAtlas, vUV);
	if (texel.a < 0.5) {
		discard;
	}
	FragColor = vec4(texel.rgb, 1.0);
}
`

// blankTexel is the RGBA5551 color of tiles that are not resident yet.
const blankTexel = 16<<11 | 16<<6 | 16<<1 | 1

// Sink executes megatexture command streams. Tiles are copied into one
// atlas texture when their cache slot gets a new page.
type Sink struct {
	program *shader.Program
	vao     uint32
	vbo     uint32
	texture uint32

	atlas    Atlas
	batch    *Batch
	uploaded []uint32
	log      *zap.Logger
}

// NewSink creates the GL objects for a cache of entries slots. The GL
// context must be current.
func NewSink(entries int, log *zap.Logger) (*Sink, error) {
	if log == nil {
		log = zap.NewNop()
	}

	program, err := shader.CompileProgram(sinkVertexShader, sinkFragmentShader, "uViewProj", "uAtlas")
	if err != nil {
		return nil, fmt.Errorf("megatexture shader: %w", err)
	}

	atlas := NewAtlas(entries)
	s := &Sink{
		program:  program,
		atlas:    atlas,
		batch:    NewBatch(atlas),
		uploaded: make([]uint32, entries),
		log:      log,
	}

	gl.GenVertexArrays(1, &s.vao)
	gl.BindVertexArray(s.vao)
	gl.GenBuffers(1, &s.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, s.vbo)

	stride := int32(unsafe.Sizeof(batchVertex{}))
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, stride, 0)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(1, 2, gl.FLOAT, false, stride, unsafe.Offsetof(batchVertex{}.UV))
	gl.EnableVertexAttribArray(1)
	gl.BindVertexArray(0)

	w, h := atlas.Size()
	gl.GenTextures(1, &s.texture)
	gl.BindTexture(gl.TEXTURE_2D, s.texture)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGB5_A1, int32(w), int32(h), 0, gl.RGBA, gl.UNSIGNED_SHORT_5_5_5_1, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)

	blank := make([]uint16, tileTexels*tileTexels)
	for i := range blank {
		blank[i] = blankTexel
	}
	s.uploadPage(atlas.Blank, unsafe.Pointer(&blank[0]))

	log.Info("megatexture sink created",
		zap.Int("entries", entries),
		zap.Int("atlas_width", w),
		zap.Int("atlas_height", h))

	return s, nil
}

func (s *Sink) uploadPage(slot int, pixels unsafe.Pointer) {
	x, y := s.atlas.Origin(slot)
	gl.BindTexture(gl.TEXTURE_2D, s.texture)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, int32(x), int32(y), tileTexels, tileTexels,
		gl.RGBA, gl.UNSIGNED_SHORT_5_5_5_1, pixels)
}

// Execute draws a frame's command stream. Depth testing stays off: every
// band is clipped to its own depth range and surfaces arrive back to front.
func (s *Sink) Execute(view *camera.View, cmds []megatexture.Command, tiles TileSource) error {
	if err := s.batch.Build(cmds); err != nil {
		return err
	}

	stale := staleSlots(s.batch.Slots(), tiles, s.uploaded)
	for _, slot := range stale {
		s.uploadPage(slot, unsafe.Pointer(&tiles.TileData(slot)[0]))
		s.uploaded[slot] = tiles.Generation(slot)
	}

	if len(s.batch.vertices) == 0 {
		return nil
	}

	gl.Disable(gl.DEPTH_TEST)
	gl.Disable(gl.CULL_FACE)

	s.program.Use()
	gl.ActiveTexture(gl.TEXTURE0)
	gl.BindTexture(gl.TEXTURE_2D, s.texture)
	gl.Uniform1i(s.program.Uniform("uAtlas"), 0)

	gl.BindVertexArray(s.vao)
	gl.BindBuffer(gl.ARRAY_BUFFER, s.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(s.batch.vertices)*int(unsafe.Sizeof(batchVertex{})),
		unsafe.Pointer(&s.batch.vertices[0]), gl.STREAM_DRAW)

	loc := s.program.Uniform("uViewProj")
	for _, seg := range s.batch.segments {
		viewProj := seg.Projection.Mul(view.ViewMatrix)
		gl.UniformMatrix4fv(loc, 1, false, viewProj.Ptr())
		gl.DrawArrays(gl.TRIANGLES, seg.First, seg.Count)
	}
	gl.BindVertexArray(0)

	s.log.Debug("frame executed",
		zap.Int("commands", len(cmds)),
		zap.Int("vertices", len(s.batch.vertices)),
		zap.Int("segments", len(s.batch.segments)),
		zap.Int("uploads", len(stale)))

	return nil
}

// Invalidate forgets every uploaded page. Call it when the tile source is
// replaced.
func (s *Sink) Invalidate() {
	clear(s.uploaded)
}

// Close releases the GL objects.
func (s *Sink) Close() {
	if s.vao != 0 {
		gl.DeleteVertexArrays(1, &s.vao)
	}
	if s.vbo != 0 {
		gl.DeleteBuffers(1, &s.vbo)
	}
	if s.texture != 0 {
		gl.DeleteTextures(1, &s.texture)
	}
	s.program.Delete()
}
