package main

import "chuncker/internal/metadata"

// fileFilter builds a metadata.FileFilter from CLI flag values, leaving
// zero-value fields unconstrained.
func fileFilter(parentID, fileType, checksum string) metadata.FileFilter {
	return metadata.FileFilter{
		ParentID: parentID,
		Type:     fileType,
		Checksum: checksum,
	}
}
