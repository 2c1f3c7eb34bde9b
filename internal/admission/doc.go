// Package admission decides whether a plugin may execute. It keeps a mutable
// confidence/risk ledger per plugin, applies the blocking policy on every
// execution attempt, and recommends safer alternatives when a candidate is
// rejected.
package admission
