// Package source provides fov images to the segmentation pipeline.
package source

import (
	"context"
	"fmt"
	"sort"

	"fiberseg/internal/models"
)

// Source lists fovs and loads one channel image of a fov
type Source interface {
	// FOVs returns the fov identifiers that carry the channel, in the
	// order they should be processed
	FOVs(channel string) ([]string, error)

	// Image loads the channel image of one fov
	Image(ctx context.Context, fov, channel string) (*models.Image, error)
}

// Memory is an in-memory image stack keyed by fov then channel
type Memory struct {
	order  []string
	images map[string]map[string]*models.Image
}

// NewMemory creates an empty in-memory source
func NewMemory() *Memory {
	return &Memory{images: make(map[string]map[string]*models.Image)}
}

// Add stores img under (fov, channel). Fovs keep the order they were first added in.
func (m *Memory) Add(fov, channel string, img *models.Image) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("fov %s channel %s: %w", fov, channel, err)
	}
	channels, ok := m.images[fov]
	if !ok {
		channels = make(map[string]*models.Image)
		m.images[fov] = channels
		m.order = append(m.order, fov)
	}
	stored := *img
	stored.FOV, stored.Channel = fov, channel
	channels[channel] = &stored
	return nil
}

// FOVs returns every fov with the channel in insertion order
func (m *Memory) FOVs(channel string) ([]string, error) {
	var fovs []string
	for _, fov := range m.order {
		if _, ok := m.images[fov][channel]; ok {
			fovs = append(fovs, fov)
		}
	}
	if len(fovs) == 0 {
		return nil, fmt.Errorf("no fov has channel %q", channel)
	}
	return fovs, nil
}

// Image returns the stored image; the caller must not modify its data
func (m *Memory) Image(ctx context.Context, fov, channel string) (*models.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, ok := m.images[fov][channel]
	if !ok {
		return nil, fmt.Errorf("fov %s has no channel %q", fov, channel)
	}
	return img, nil
}

// Channels lists the channels stored for a fov in alphabetical order
func (m *Memory) Channels(fov string) []string {
	var names []string
	for name := range m.images[fov] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
