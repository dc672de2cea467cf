package bgsync

import "time"

// NoOpSyncer is used when background sync is disabled. It never arms a refresh.
type NoOpSyncer struct{}

func (NoOpSyncer) Register(string, Operation)                {}
func (NoOpSyncer) Registered(string) bool                    { return false }
func (NoOpSyncer) StartSync(string, time.Duration) bool      { return false }
func (NoOpSyncer) StopSync(string)                           {}
func (NoOpSyncer) IsSyncing(string) bool                     { return false }
func (NoOpSyncer) Active() int                               { return 0 }
func (NoOpSyncer) PauseAll()                                 {}
func (NoOpSyncer) ResumeAll()                                {}
func (NoOpSyncer) SyncMetrics() (int64, int64, int64, int64) { return 0, 0, 0, 0 }
func (NoOpSyncer) Close() error                              { return nil }
