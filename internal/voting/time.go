package voting

import "time"

// nowFunc is the injectable wall-clock source used throughout the package,
// matching the teacher's nowFunc override pattern for deterministic tests.
var nowFunc = time.Now
