// Package verify gates verification_record mutations behind an external
// check before they enter the merge path. Implementations wrap hospital
// identity systems; the default accepts everything.
package verify
