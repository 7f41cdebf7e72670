package domain

import "time"

// Image is a stored image artifact reference. The bytes themselves live
// behind the storage gateway; only the filename is recorded here.
type Image struct {
	ID        int64
	Filename  string
	CreatedAt time.Time
}
