package peimage

import "sort"

// RvaConverter maps a page-aligned RVA to the Section that contains it, the
// same page-granularity map CheckExecutableConsistency and
// SimulateRelocations build from a file's section table before walking
// memory page by page.
type RvaConverter struct {
	pages   []uint32
	section map[uint32]Section
}

// BuildRvaConverter indexes every 0x1000-aligned page covered by sections,
// from their VirtualAddress through VirtualAddress+SizeOfRawData.
func BuildRvaConverter(sections []Section) *RvaConverter {
	c := &RvaConverter{section: make(map[uint32]Section)}
	for _, s := range sections {
		for page := s.VirtualAddress &^ 0xFFF; page < s.VirtualAddress+s.RawSize; page += 0x1000 {
			c.section[page] = s
		}
	}
	c.pages = make([]uint32, 0, len(c.section))
	for page := range c.section {
		c.pages = append(c.pages, page)
	}
	sort.Slice(c.pages, func(i, j int) bool { return c.pages[i] < c.pages[j] })
	return c
}

// Lookup reports whether page (already page-aligned) is covered by a
// section and, if so, returns it.
func (c *RvaConverter) Lookup(page uint32) (Section, bool) {
	s, ok := c.section[page]
	return s, ok
}

// ToRawOffset converts an arbitrary RVA to its file offset, using the
// section whose page range contains it. Returns false if rva isn't covered
// by any section.
func (c *RvaConverter) ToRawOffset(rva uint32) (uint32, bool) {
	page := rva &^ 0xFFF
	s, ok := c.Lookup(page)
	if !ok {
		return 0, false
	}
	return s.RawOffset + (rva - s.VirtualAddress), true
}
