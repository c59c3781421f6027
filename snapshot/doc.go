// Package snapshot captures the post-installation contents and structure of
// every table and persists them below the framework directory of the
// dataroot, together with the codebase fingerprint they were taken with.
//
// Files written by Capture:
//
//	<dataroot>/<framework>/tabledata.ser       table rows, in capture order
//	<dataroot>/<framework>/tablestructure.ser  column descriptors per table
//	<dataroot>/<framework>/versionshash.txt    codebase fingerprint
//
// The fingerprint is also stored in the config table under the
// "<framework>test" key, which marks the database as a test database.
package snapshot
