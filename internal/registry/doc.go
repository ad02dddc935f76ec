// Package registry is the entity type directory. It maps a type id to its
// field and relation descriptors, provides instance-by-pk access through a
// bound Loader, and offers dynamic field access by name and dotted-path
// traversal across relations.
//
// Values are coerced to native kinds (int64, decimal.Decimal, time.Time,
// bool, string) so that condition evaluation can compare numbers and dates
// by value rather than by their string forms.
package registry
