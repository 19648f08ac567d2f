package shared

import "strconv"

const lockNamespace = "ledger:lock"

// PeriodLockKey names the lease held while a period changes status.
func PeriodLockKey(companyID, periodID int64) string {
	return lockNamespace + ":company:" + strconv.FormatInt(companyID, 10) +
		":period:" + strconv.FormatInt(periodID, 10)
}
