package snapshot

import "regexp"

// nameRE matches <subvolume>-<YYYY-MM-DD>.<HH-MM-SS>. The subvolume group is
// greedy, so the strict timestamp shape decides where the split happens and
// subvolume names may themselves contain '-'.
var nameRE = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2}\.\d{2}-\d{2}-\d{2})$`)

// ParseName splits a snapshot directory name into subvolume and timestamp.
// ok is false when the name is not a snapshot name.
func ParseName(name string) (subvolume, timestamp string, ok bool) {
	m := nameRE.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsSnapshotName reports whether name looks like a snapshot directory.
func IsSnapshotName(name string) bool {
	return nameRE.MatchString(name)
}
