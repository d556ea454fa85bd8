// Package audit persists a durable record of every index state transition
// the Master drives (to DEPLOYING, DEPLOYED, DEPLOY_ERROR or REPLICATING)
// to PostgreSQL, for after-the-fact incident review. The katta CLI does
// not read it; listErrors and showStructure read the metadata store.
package audit
