package domain

// DatasetName identifies the application landscape dataset in source
// schemas and the run ledger.
const DatasetName = "application-landscape"

// Canonical column names shared by the cleaned tabular outputs and the
// materializer. The normalizer renames raw export headers onto these before
// any identifier conversion happens.
const (
	ColPersID      = "PERSID"
	ColAppPersID   = "APP_PERSID"
	ColPersID1     = "PERSID_1"
	ColPersID2     = "PERSID_2"
	ColOSPersID    = "OS_PERSID"
	ColOrgName     = "ORG_NAME"
	ColAHDName     = "AHD_NAME"
	ColAHDHits     = "AHD_HITS"
	ColNumSessions = "NUM_SESSIONS"
	ColSimilarity  = "SIMILARITY"
	ColCompID      = "COMP_ID"
)

// Node labels.
const (
	LabelApp = "App"
	LabelOrg = "Org"
	LabelAHD = "AHD"
)

// Relationship types, always directed App -> other.
const (
	RelUsedBy    = "USED_BY"
	RelSimilarTo = "IS_SIMILAR_TO"
	RelHits      = "HITS"
)

// Graph property names. Key properties identify nodes; the rest live on
// relationships only, never copied onto endpoints.
const (
	PropPersID     = "PERSID"
	PropName       = "name"
	PropNSessions  = "nSessions"
	PropNHits      = "nHits"
	PropSimilarity = "similarityConnectedComp"
	PropCompID     = "compID"
)

// Source names as declared in the sources config.
const (
	SourceApps        = "apps"
	SourceOrgs        = "orgs"
	SourceAHDHits     = "ahd_hits"
	SourceSimilarity  = "similarity"
	SourceOSInstances = "os_instances"
)
