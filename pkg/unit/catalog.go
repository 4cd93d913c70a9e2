package unit

import "sync"

// Descriptor is a compiled-in unit. Metadata is optional: a descriptor
// without it is discovered with safe defaults.
type Descriptor struct {
	Name     string
	New      Factory
	Metadata *Metadata
}

// Catalog is the compiled-in unit namespace. It is built explicitly by the
// program and handed to discovery; there is no package-level catalog.
type Catalog struct {
	mutex       sync.Mutex
	descriptors []Descriptor
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// Add appends descriptors in declaration order. Validation happens at
// discovery so a bad descriptor is skipped instead of panicking here.
func (c *Catalog) Add(descriptors ...Descriptor) *Catalog {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.descriptors = append(c.descriptors, descriptors...)
	return c
}

// Descriptors returns a copy of the catalog contents.
func (c *Catalog) Descriptors() []Descriptor {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]Descriptor(nil), c.descriptors...)
}
