// Package types defines the data structures shared by every component of
// the supervisor: backend descriptors, cluster state, worker records, and
// the request-queue entry shape.
//
// These are plain value types; synchronization lives in the packages that
// own them (pkg/cluster, pkg/requestqueue, pkg/supervisor), not here.
package types
