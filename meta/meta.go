// meta/meta.go
package meta

import "time"

// DEFAULT_HEURISTIC is the priority heuristic used when none is configured.
const DEFAULT_HEURISTIC = "value_only"

// DEFAULT_ALPHA weighs value against family size in the value_size heuristic.
const DEFAULT_ALPHA = 0.1

// DEFAULT_EPSILON is the smallest bound gap the bounds_gap heuristic reports.
const DEFAULT_EPSILON = 1e-9

const MAX_SUBTREE_DEPTH = 3

const MIN_SUBTREE_DEPTH = 2

// MAX_LOSS is the largest estimated policy loss a hybrid splice may introduce.
const MAX_LOSS = 0.05

const MAX_HYBRID_ROUNDS = 50

// INDUCTION_TIMEOUT bounds a single run of the external tree-induction tool.
const INDUCTION_TIMEOUT = 120 * time.Second

const INDUCTION_PRESET = "default"

// LOWER_BOUND_TOLERANCE is the smallest change reported as a new lower bound.
const LOWER_BOUND_TOLERANCE = 1e-9
