package quotebook

import "time"

// =============================================================================
// 排序与有效性策略（纯函数）
// =============================================================================
//
// 买方视角：最优价 = 有效报价中的最低价

// IsExpired 到期时刻不晚于 now 即视为过期
func IsExpired(q *Quote, now time.Time) bool {
	return !q.ExpirationDate.After(now)
}

// IsInvalid 过期或无可用量
// 可用量为负说明账本已损坏，返回内部错误
func IsInvalid(q *Quote, now time.Time) (bool, error) {
	if q.AvailableVolume < 0 {
		return true, inconsistency("quote %s has negative volume %d", q.ID, q.AvailableVolume)
	}
	return q.AvailableVolume == 0 || IsExpired(q, now), nil
}

// ComparePrice 价格升序全序
func ComparePrice(a, b *Quote) int {
	switch {
	case a.Price < b.Price:
		return -1
	case a.Price > b.Price:
		return 1
	}
	return 0
}

// CompareVolume 可用量升序
func CompareVolume(a, b *Quote) int {
	switch {
	case a.AvailableVolume < b.AvailableVolume:
		return -1
	case a.AvailableVolume > b.AvailableVolume:
		return 1
	}
	return 0
}

// Better a 是否比 b 更优（更低的价格）
func Better(a, b *Quote) bool {
	return ComparePrice(a, b) < 0
}
