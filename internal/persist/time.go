package persist

import "time"

func nanoTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
