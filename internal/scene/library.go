package scene

// LibraryItem is a reusable group of elements the user saved for
// re-insertion. Items are immutable once created; inserting one into a
// document clones the elements under fresh ids and version stamps.
type LibraryItem struct {
	ID        string    `json:"id"`
	Elements  []Element `json:"elements"`
	CreatedAt int64     `json:"createdAt"`
}

// Clone returns a deep copy of the item.
func (li LibraryItem) Clone() LibraryItem {
	out := li
	out.Elements = make([]Element, len(li.Elements))
	for i, e := range li.Elements {
		out.Elements[i] = e.Clone()
	}
	return out
}
