package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PendingSheetPrefix is the common prefix of every pending answer sheet key.
const PendingSheetPrefix = "pending_sheet:"

// PendingSheetKey returns the redis key of the pending answer sheet for an exam
func (r *CacheKeyStruct) PendingSheetKey(examID string) string {
	return fmt.Sprintf("%s%s", PendingSheetPrefix, examID)
}

// PendingSheetPattern returns the SCAN pattern matching every pending answer sheet
func (r *CacheKeyStruct) PendingSheetPattern() string {
	return PendingSheetPrefix + "*"
}

var CacheKey = NewCacheKeyStruct()
