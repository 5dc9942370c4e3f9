// Package bake turns source images and a scene description into a
// streamable level pack.
package bake

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalidScene is returned for scene descriptions that cannot be baked.
var ErrInvalidScene = errors.New("invalid scene")

// Scene describes one level.
type Scene struct {
	Name     string        `yaml:"name"`
	Surfaces []SurfaceDesc `yaml:"surfaces"`
	Options  SceneOptions  `yaml:"options"`

	// dir resolves relative image paths.
	dir string
}

// SceneOptions tunes the whole bake.
type SceneOptions struct {
	// MaxTiles caps the finest layer's tile count per axis.
	MaxTiles int `yaml:"max_tiles"`
}

// SurfaceDesc places one image on a planar quad.
type SurfaceDesc struct {
	Name      string     `yaml:"name"`
	Image     string     `yaml:"image"`
	Origin    [3]float32 `yaml:"origin"`
	Right     [3]float32 `yaml:"right"`
	Up        [3]float32 `yaml:"up"`
	SortGroup int        `yaml:"sort_group"`

	// PreloadLayers marks the coarsest layers as always resident.
	PreloadLayers *int `yaml:"preload_layers"`

	ColorKey          *[3]uint8 `yaml:"color_key"`
	ColorKeyTolerance uint8     `yaml:"color_key_tolerance"`
}

const (
	defaultMaxTiles      = 256
	defaultPreloadLayers = 1
)

// LoadScene reads a scene file. Image paths are relative to the file.
func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	scene, err := ParseScene(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	scene.dir = filepath.Dir(path)
	return scene, nil
}

// ParseScene decodes and validates a scene description.
func ParseScene(data []byte) (*Scene, error) {
	var scene Scene
	if err := yaml.Unmarshal(data, &scene); err != nil {
		return nil, fmt.Errorf("decoding scene: %w", err)
	}
	if scene.Options.MaxTiles == 0 {
		scene.Options.MaxTiles = defaultMaxTiles
	}
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	return &scene, nil
}

// Validate checks the scene for values the baker cannot use.
func (s *Scene) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidScene)
	}
	if len(s.Surfaces) == 0 {
		return fmt.Errorf("%w: %s has no surfaces", ErrInvalidScene, s.Name)
	}
	if s.Options.MaxTiles < 1 || s.Options.MaxTiles&(s.Options.MaxTiles-1) != 0 {
		return fmt.Errorf("%w: max_tiles %d is not a power of two", ErrInvalidScene, s.Options.MaxTiles)
	}

	seen := make(map[string]bool)
	for i := range s.Surfaces {
		desc := &s.Surfaces[i]
		if desc.Name == "" {
			desc.Name = fmt.Sprintf("surface%d", i)
		}
		if seen[desc.Name] {
			return fmt.Errorf("%w: duplicate surface %q", ErrInvalidScene, desc.Name)
		}
		seen[desc.Name] = true

		if desc.Image == "" {
			return fmt.Errorf("%w: surface %q has no image", ErrInvalidScene, desc.Name)
		}

		right, up := vec3(desc.Right), vec3(desc.Up)
		if right.LengthSqr() == 0 || up.LengthSqr() == 0 {
			return fmt.Errorf("%w: surface %q has a zero edge", ErrInvalidScene, desc.Name)
		}
		if d := right.Normalize().Dot(up.Normalize()); d > orthoTolerance || d < -orthoTolerance {
			return fmt.Errorf("%w: surface %q edges are not perpendicular", ErrInvalidScene, desc.Name)
		}
		if desc.PreloadLayers != nil && *desc.PreloadLayers < 0 {
			return fmt.Errorf("%w: surface %q preload_layers is negative", ErrInvalidScene, desc.Name)
		}
	}
	return nil
}

const orthoTolerance = 1e-3

func (s *SurfaceDesc) preloadLayers() int {
	if s.PreloadLayers == nil {
		return defaultPreloadLayers
	}
	return *s.PreloadLayers
}

func (s *Scene) imagePath(desc *SurfaceDesc) string {
	if filepath.IsAbs(desc.Image) || s.dir == "" {
		return desc.Image
	}
	return filepath.Join(s.dir, desc.Image)
}
