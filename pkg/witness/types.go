package witness

// Options tune witness construction policy that sits above the relation
// system itself.
type Options struct {
	// RequireChange rejects degenerate instances whose S and C sides are
	// identical (same roots, same value). The core accepts such no-op
	// instances; whether they are meaningful is a protocol decision.
	RequireChange bool
}
