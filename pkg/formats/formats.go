// Package formats reads and writes the megatexture level file format.
//
// A level (MTLV) lists the surfaces of a scene. Each surface carries its UV
// basis, bounds and a chain of LOD layers; each layer has a tile-grid mesh
// and the offset of its tile pixels in the pack's tile stream.
package formats
