package objfile

import (
	"fmt"
	"io"
)

// Dump prints the architecture, then every segment followed by its
// sections.
func (img *Image) Dump(w io.Writer) error {
	fmt.Fprintf(w, "%s %s\n", img.hdr.Format, img.hdr.Arch)
	return img.ForEachSegment(func(seg Segment) error {
		fmt.Fprintf(w, "segname: %-25s offset: 0x%-12x vmaddr: 0x%-18x vmsize: 0x%x\n",
			seg.Name, seg.FileOffset, seg.Addr, seg.Size)
		return img.ForEachSection(seg, func(s Section) error {
			_, err := fmt.Fprintf(w, "Section: %s; Address: 0x%x\n", s.Name, s.Addr)
			return err
		})
	})
}
