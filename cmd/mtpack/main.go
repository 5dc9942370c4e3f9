// mtpack is a CLI utility for inspecting megatexture packs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Faultbox/megatex/internal/assets"
	"github.com/Faultbox/megatex/internal/engine/texture"
	"github.com/Faultbox/megatex/pkg/formats"
	"github.com/Faultbox/megatex/pkg/mtpack"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "list", "ls":
		cmdList(args)
	case "extract", "x":
		cmdExtract(args)
	case "levels":
		cmdLevels(args)
	case "layer":
		cmdLayer(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mtpack - megatexture pack utility

Usage:
  mtpack <command> [options]

Commands:
  info <pack>                                  Show pack information
  list <pack> [pattern]                        List entries (optional glob pattern)
  extract <pack> <entry> [output]              Extract an entry to a directory
  levels <pack>                                Describe every level's surfaces and layers
  layer <pack> <level> <surface> <lod> <out>   Export one layer's tiles as PNG

Examples:
  mtpack info castle.mtpk
  mtpack list castle.mtpk "*.mtlv"
  mtpack extract castle.mtpk levels/hall.mtlv ./output
  mtpack layer castle.mtpk hall floor 2 floor_lod2.png`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openPack(path string) *mtpack.Archive {
	archive, err := mtpack.Open(path)
	if err != nil {
		fail("Error: %v", err)
	}
	return archive
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fail("Usage: mtpack info <pack>")
	}

	archive := openPack(args[0])
	defer archive.Close()

	var stored, size, raw uint64
	entries := archive.List()
	for _, name := range entries {
		e, err := archive.Stat(name)
		if err != nil {
			fail("Error: %v", err)
		}
		stored += e.StoredSize
		size += e.Size
		if !e.Compressed {
			raw++
		}
	}

	fmt.Printf("Pack:     %s\n", args[0])
	fmt.Printf("Entries:  %d (%d streamable)\n", len(entries), raw)
	fmt.Printf("Stored:   %.2f MB\n", float64(stored)/(1024*1024))
	fmt.Printf("Unpacked: %.2f MB\n", float64(size)/(1024*1024))
	fmt.Println()

	m, err := assets.NewManager(args[0], nil)
	if err != nil {
		fail("Error: %v", err)
	}
	defer m.Close()

	fmt.Printf("Levels:   %s\n", strings.Join(m.Levels(), ", "))
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("n", 0, "Limit output to N entries (0 = all)")
	long := fs.Bool("l", false, "Show sizes and storage")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fail("Usage: mtpack list [-n N] [-l] <pack> [pattern]")
	}

	archive := openPack(fs.Arg(0))
	defer archive.Close()

	entries := archive.List()
	slices.Sort(entries)

	pattern := ""
	if fs.NArg() > 1 {
		pattern = strings.ToLower(fs.Arg(1))
	}

	count := 0
	for _, name := range entries {
		if pattern != "" {
			matched, _ := filepath.Match(pattern, strings.ToLower(filepath.Base(name)))
			if !matched && !strings.Contains(strings.ToLower(name), pattern) {
				continue
			}
		}

		if *long {
			e, err := archive.Stat(name)
			if err != nil {
				fail("Error: %v", err)
			}
			kind := "raw"
			if e.Compressed {
				kind = "zlib"
			}
			fmt.Printf("%-4s %10d %10d  %s\n", kind, e.StoredSize, e.Size, name)
		} else {
			fmt.Println(name)
		}

		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}

	if pattern != "" {
		fmt.Fprintf(os.Stderr, "\n(%d entries matched)\n", count)
	}
}

func cmdExtract(args []string) {
	if len(args) < 2 {
		fail("Usage: mtpack extract <pack> <entry> [output_dir]")
	}

	outputDir := "."
	if len(args) > 2 {
		outputDir = args[2]
	}

	archive := openPack(args[0])
	defer archive.Close()

	data, err := archive.Read(args[1])
	if err != nil {
		fail("Error reading entry: %v", err)
	}

	outputPath := filepath.Join(outputDir, filepath.FromSlash(args[1]))
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		fail("Error creating directory: %v", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		fail("Error writing file: %v", err)
	}

	fmt.Printf("Extracted: %s (%d bytes)\n", outputPath, len(data))
}

func readLevel(archive *mtpack.Archive, name string) *formats.Level {
	data, err := archive.Read(assets.LevelPath(name))
	if err != nil {
		fail("Error: %v", err)
	}
	level, err := formats.ParseLevel(data)
	if err != nil {
		fail("Error parsing level %s: %v", name, err)
	}
	return level
}

func cmdLevels(args []string) {
	if len(args) < 1 {
		fail("Usage: mtpack levels <pack>")
	}

	m, err := assets.NewManager(args[0], nil)
	if err != nil {
		fail("Error: %v", err)
	}
	defer m.Close()

	archive := openPack(args[0])
	defer archive.Close()

	for _, name := range m.Levels() {
		// Loading validates the level the way the viewer does.
		if _, err := m.LoadLevel(name); err != nil {
			fmt.Printf("%s: INVALID: %v\n", name, err)
			continue
		}

		level := readLevel(archive, name)
		fmt.Printf("%s: %d surfaces\n", name, len(level.Surfaces))

		for _, s := range level.Surfaces {
			fmt.Printf("  %-16s group %-3d texel %.4f  layers %d\n",
				s.Name, s.SortGroup, s.TexelSize, len(s.Layers))
			for lod, l := range s.Layers {
				pinned := ""
				if l.AlwaysLoaded() {
					pinned = "  always loaded"
				}
				fmt.Printf("    lod %-2d %4dx%-4d offset %-10d verts %-6d%s\n",
					lod, l.XTiles, l.YTiles, l.TileOffset, len(l.Vertices), pinned)
			}
		}
	}
}

func cmdLayer(args []string) {
	if len(args) < 5 {
		fail("Usage: mtpack layer <pack> <level> <surface> <lod> <out.png>")
	}

	lod, err := strconv.Atoi(args[3])
	if err != nil {
		fail("Invalid lod %q: %v", args[3], err)
	}

	archive := openPack(args[0])
	defer archive.Close()

	level := readLevel(archive, args[1])

	idx := slices.IndexFunc(level.Surfaces, func(s formats.LevelSurface) bool {
		return s.Name == args[2]
	})
	if idx < 0 {
		fail("Surface %q not found in level %s", args[2], args[1])
	}
	surface := &level.Surfaces[idx]
	if lod < 0 || lod >= len(surface.Layers) {
		fail("Surface %s has %d layers", surface.Name, len(surface.Layers))
	}
	layer := &surface.Layers[lod]

	base, err := archive.StreamOffset(assets.TilePath(args[1]))
	if err != nil {
		fail("Error: %v", err)
	}

	xTiles, yTiles := int(layer.XTiles), int(layer.YTiles)
	data := make([]byte, xTiles*yTiles*texture.TileBytes)
	n, err := archive.ReaderAt().ReadAt(data, int64(base+layer.TileOffset))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(data)) {
		fail("Error reading tiles: %v", err)
	}

	img, err := texture.DecodeTiles(xTiles, yTiles, data)
	if err != nil {
		fail("Error: %v", err)
	}

	f, err := os.Create(args[4])
	if err != nil {
		fail("Error: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		fail("Error encoding %s: %v", args[4], err)
	}
	if err := f.Close(); err != nil {
		fail("Error: %v", err)
	}

	fmt.Printf("Exported: %s (%dx%d tiles)\n", args[4], xTiles, yTiles)
}
