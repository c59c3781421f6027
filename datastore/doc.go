// Package datastore resets the file side of a test installation: the
// dataroot directory with its content-addressed filedir store, scratch
// directories and caches.
//
// Files present in filedir at installation time are listed once in a
// preserved manifest (<dataroot>/originaldatafiles.json) and survive every
// Purge. Drop removes the framework directory, and with it the manifest
// and filedir, when the test installation is decommissioned.
package datastore
