package session

import "sync"

// Clipboard is the process-wide copy/cut buffer. It is set by one
// session's request and consumable by any session's paste: the original
// multi-client design, where every viewer shares one clipboard.
type Clipboard struct {
	mu    sync.Mutex
	paths []string
	mode  string // types.ClipboardCopy or types.ClipboardCut, "" when empty
}

// NewClipboard creates an empty clipboard.
func NewClipboard() *Clipboard {
	return &Clipboard{}
}

// Set replaces the clipboard contents.
func (c *Clipboard) Set(paths []string, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append([]string(nil), paths...)
	c.mode = mode
}

// Get returns the current contents.
func (c *Clipboard) Get() ([]string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...), c.mode
}

// Clear empties the clipboard.
func (c *Clipboard) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = nil
	c.mode = ""
}

// Remove drops the given paths from the clipboard, clearing it entirely
// when nothing is left. Used after a cut-paste consumes its sources.
func (c *Clipboard) Remove(paths []string) {
	drop := make(map[string]bool, len(paths))
	for _, p := range paths {
		drop[p] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.paths[:0]
	for _, p := range c.paths {
		if !drop[p] {
			kept = append(kept, p)
		}
	}
	c.paths = kept
	if len(c.paths) == 0 {
		c.mode = ""
	}
}
