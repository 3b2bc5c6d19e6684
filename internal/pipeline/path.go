package pipeline

import "slices"

// Path describes one producer-to-consumer chain through the graph: an
// origin writer port, an ordered list of intermediate filters, and a
// destination reader port. A Path only names topology; queues exist once
// the manager connects it.
type Path struct {
	originID      int
	destinationID int
	orgWriterID   int
	dstReaderID   int
	mid           []int
	shared        bool
}

// NewPath builds a path description. Filter IDs are validated by the
// manager at creation time, not here.
func NewPath(originID, destinationID, orgWriterID, dstReaderID int, mid []int, shared bool) *Path {
	return &Path{
		originID:      originID,
		destinationID: destinationID,
		orgWriterID:   orgWriterID,
		dstReaderID:   dstReaderID,
		mid:           slices.Clone(mid),
		shared:        shared,
	}
}

// OriginID returns the head filter ID.
func (p *Path) OriginID() int { return p.originID }

// DestinationID returns the tail filter ID.
func (p *Path) DestinationID() int { return p.destinationID }

// OrgWriterID returns the writer port reserved on the origin filter.
func (p *Path) OrgWriterID() int { return p.orgWriterID }

// DstReaderID returns the reader port reserved on the destination filter.
func (p *Path) DstReaderID() int { return p.dstReaderID }

// Filters returns the intermediate filter IDs in chain order.
func (p *Path) Filters() []int { return slices.Clone(p.mid) }

// Shared reports whether the head edge fans out to a second reader.
func (p *Path) Shared() bool { return p.shared }
