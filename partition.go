package fat

import "github.com/google/uuid"

// PartitionGUID returns the unique GPT partition GUID of the currently
// mounted volume, or the zero UUID if the volume was found via an MBR
// partition table (or no partition table at all).
//
// internal/gpt parses partition entries as raw 16-byte arrays; this wraps
// that array as a [uuid.UUID] for callers that want to match a volume by GUID
// rather than by its position on disk.
func (fsys *FS) PartitionGUID() uuid.UUID {
	return uuid.UUID(fsys.partitionGUID)
}
