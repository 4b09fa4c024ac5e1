package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// maxEntrySize bounds a single extracted file.
const maxEntrySize = 256 << 20

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs assets into an in-memory zip archive.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// IsArchive reports whether data starts with a zip local file header.
func IsArchive(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}

// MeshFiles names the mesh-related entries found in an archive.
type MeshFiles struct {
	OBJ      string
	MTL      string
	Textures []string
}

// DetectMeshFiles picks the first .obj and .mtl entries plus any texture
// images from a list of archive entry names.
func DetectMeshFiles(names []string) MeshFiles {
	var out MeshFiles
	for _, name := range names {
		if strings.HasSuffix(name, "/") || strings.HasPrefix(path.Base(name), ".") {
			continue
		}
		switch strings.ToLower(path.Ext(name)) {
		case ".obj":
			if out.OBJ == "" {
				out.OBJ = name
			}
		case ".mtl":
			if out.MTL == "" {
				out.MTL = name
			}
		case ".png", ".jpg", ".jpeg", ".bmp", ".tga":
			out.Textures = append(out.Textures, name)
		}
	}
	return out
}

// ExtractedMesh holds the decompressed mesh entries of an archive.
type ExtractedMesh struct {
	OBJ      Asset
	MTL      *Asset
	Textures []Asset
}

// ExtractMesh unpacks the obj, its optional mtl and textures from a zip
// archive. Entry paths are flattened to their base names.
func ExtractMesh(data []byte) (*ExtractedMesh, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: open archive: %w", err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
		names = append(names, f.Name)
	}
	found := DetectMeshFiles(names)
	if found.OBJ == "" {
		return nil, errors.New("zip: archive contains no .obj file")
	}

	out := &ExtractedMesh{}
	obj, err := readEntry(entries[found.OBJ], "text/plain")
	if err != nil {
		return nil, err
	}
	out.OBJ = obj
	if found.MTL != "" {
		mtl, err := readEntry(entries[found.MTL], "text/plain")
		if err != nil {
			return nil, err
		}
		out.MTL = &mtl
	}
	for _, name := range found.Textures {
		tex, err := readEntry(entries[name], textureMIME(name))
		if err != nil {
			return nil, err
		}
		out.Textures = append(out.Textures, tex)
	}
	return out, nil
}

func readEntry(f *zip.File, mime string) (Asset, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return Asset{}, fmt.Errorf("zip: entry %s too large", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return Asset{}, fmt.Errorf("zip: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return Asset{}, fmt.Errorf("zip: read %s: %w", f.Name, err)
	}
	if len(data) > maxEntrySize {
		return Asset{}, fmt.Errorf("zip: entry %s too large", f.Name)
	}
	return Asset{Filename: path.Base(f.Name), MIME: mime, Data: data}, nil
}

func textureMIME(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
