package cache

// Identifiable is implemented by every entity held in a collection.
type Identifiable interface {
	GetID() string
}

// IndexOf returns the position of id in items, or -1.
func IndexOf[T Identifiable](items []T, id string) int {
	for i, item := range items {
		if item.GetID() == id {
			return i
		}
	}
	return -1
}

// Upsert returns a new slice with item replacing the entry of the same id in
// place, or appended when the id is new. items is never modified.
func Upsert[T Identifiable](items []T, item T) []T {
	out := make([]T, len(items), len(items)+1)
	copy(out, items)
	if i := IndexOf(out, item.GetID()); i >= 0 {
		out[i] = item
		return out
	}
	return append(out, item)
}

// RemoveByID returns a new slice without the first entry carrying id. An
// absent id yields an unchanged copy.
func RemoveByID[T Identifiable](items []T, id string) []T {
	i := IndexOf(items, id)
	if i < 0 {
		out := make([]T, len(items))
		copy(out, items)
		return out
	}
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

// ReplaceID returns a new slice where the entry carrying oldID is replaced in
// place by item. Any other entry already carrying item's id is dropped so ids
// stay unique. When oldID is absent item is upserted.
func ReplaceID[T Identifiable](items []T, oldID string, item T) []T {
	if item.GetID() == oldID || IndexOf(items, oldID) < 0 {
		return Upsert(items, item)
	}
	out := RemoveByID(items, item.GetID())
	out[IndexOf(out, oldID)] = item
	return out
}
