// Package chain turns ranked, admitted plugin candidates into an executable
// dependency graph and runs it. The builder is greedy: seed nodes need no
// inputs, later nodes attach once the accumulated output types can satisfy
// them, and candidates that never become reachable are dropped. The runner
// offers sequential, parallel (level barrier) and adaptive strategies.
package chain
