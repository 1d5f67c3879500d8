package source

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	// registers the tiff decoder with image.Decode
	_ "golang.org/x/image/tiff"

	"fiberseg/internal/models"
)

// extensions are tried in this order when resolving a channel file
var extensions = []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}

// Directory reads single-channel images laid out as
// <Root>/<fov>/<Subdir>/<channel>.<ext>. Subdir may be empty.
type Directory struct {
	// Root contains one sub-directory per fov
	Root string

	// Subdir is an optional directory inside each fov holding the channel files
	Subdir string
}

// NewDirectory creates a directory source rooted at root
func NewDirectory(root, subdir string) *Directory {
	return &Directory{Root: root, Subdir: subdir}
}

// FOVs returns the fov directories that contain the channel, sorted by name
func (d *Directory) FOVs(channel string) ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var fovs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := d.channelPath(e.Name(), channel); err == nil {
			fovs = append(fovs, e.Name())
		}
	}
	sort.Strings(fovs)

	if len(fovs) == 0 {
		return nil, fmt.Errorf("no fov in %s has channel %q", d.Root, channel)
	}
	return fovs, nil
}

// Image decodes the channel file of a fov into intensities scaled to [0, 1]
func (d *Directory) Image(ctx context.Context, fov, channel string) (*models.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := d.channelPath(fov, channel)
	if err != nil {
		return nil, err
	}

	src, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}

	img := ToFloat(src)
	img.FOV, img.Channel = fov, channel
	return img, nil
}

func (d *Directory) channelPath(fov, channel string) (string, error) {
	dir := filepath.Join(d.Root, fov, d.Subdir)
	for _, ext := range extensions {
		path := filepath.Join(dir, channel+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("fov %s has no %q image in %s", fov, channel, dir)
}

// ToFloat converts the first channel of an image to a float image with
// values in [0, 1]. 16-bit data keeps its full precision.
func ToFloat(src image.Image) *models.Image {
	b := src.Bounds()
	img := models.NewImage(b.Dx(), b.Dy())

	switch s := src.(type) {
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				img.Data[y*img.Width+x] = float64(s.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 65535.0
			}
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				img.Data[y*img.Width+x] = float64(s.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255.0
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				r, _, _, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
				img.Data[y*img.Width+x] = float64(r) / 65535.0
			}
		}
	}
	return img
}
