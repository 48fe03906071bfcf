package compositor

import (
	"image"
	"sync"

	"onair/video"
)

// Assets resolves overlay image sources.
type Assets interface {
	Image(src string) (image.Image, error)
}

type assetEntry struct {
	img image.Image
	err error
}

// Cache decodes each source once, failures included, so a missing logo is
// reported once instead of on every frame. Forget clears an entry after the
// file is fixed.
type Cache struct {
	mu   sync.Mutex
	m    map[string]assetEntry
	load func(string) (image.Image, error)
}

func NewCache() *Cache {
	return &Cache{m: map[string]assetEntry{}, load: video.DecodeFile}
}

func (c *Cache) Image(src string) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[src]; ok {
		return e.img, e.err
	}
	img, err := c.load(src)
	c.m[src] = assetEntry{img, err}
	return img, err
}

// Put registers an already decoded image under src.
func (c *Cache) Put(src string, img image.Image) {
	c.mu.Lock()
	c.m[src] = assetEntry{img: img}
	c.mu.Unlock()
}

func (c *Cache) Forget(src string) {
	c.mu.Lock()
	delete(c.m, src)
	c.mu.Unlock()
}
