package terms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDueDateNetDays(t *testing.T) {
	due := Net(30).DueDate(date(2025, time.March, 1))
	require.Equal(t, date(2025, time.March, 31), due)
}

func TestDueDateDueOnReceipt(t *testing.T) {
	issued := date(2025, time.March, 1)
	require.Equal(t, issued, DueOnReceipt().DueDate(issued))
}

func TestDueDateEarlyDiscountUsesNetDays(t *testing.T) {
	terms := EarlyDiscount(2, 10, 30)
	due := terms.DueDate(date(2025, time.June, 15))
	require.Equal(t, date(2025, time.July, 15), due)
}

func TestDueDateSpecificDatesSameMonth(t *testing.T) {
	terms := OnDays(1, 15)
	due := terms.DueDate(date(2025, time.March, 10))
	require.Equal(t, date(2025, time.March, 15), due)
}

func TestDueDateSpecificDatesRollsToNextMonth(t *testing.T) {
	terms := OnDays(1, 15)
	due := terms.DueDate(date(2025, time.March, 20))
	require.Equal(t, date(2025, time.April, 1), due)
}

func TestDueDateSpecificDatesSortsDays(t *testing.T) {
	terms := OnDays(15, 1)
	due := terms.DueDate(date(2025, time.March, 20))
	require.Equal(t, date(2025, time.April, 1), due)
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "Due on receipt", DueOnReceipt().Describe())
	require.Equal(t, "Net 30", Net(30).Describe())
	require.Equal(t, "2/10 Net 30", EarlyDiscount(2, 10, 30).Describe())
	require.Equal(t, "Due on day 1/15 of month", OnDays(15, 1).Describe())
}
