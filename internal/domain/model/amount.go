package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Amount 金額
// 儲存在瀏覽器端的購物車可能被竄改或損毀，單一欄位解析失敗時記為 NaN，
// 不讓整台購物車解析失敗，由 RecomputeTotals 負責把 NaN 歸零
type Amount float64

func (a Amount) Float64() float64 {
	return float64(a)
}

// IsFinite 非 NaN 且非 ±Inf
func (a Amount) IsFinite() bool {
	f := float64(a)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.IsFinite() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(a), 'f', -1, 64)), nil
}

// UnmarshalJSON 永遠不回傳錯誤
//   - number: 正常解析
//   - "12.5": 數字字串正常解析
//   - null: 0
//   - 其他: NaN
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*a = Amount(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			*a = Amount(f)
			return nil
		}
	}

	*a = Amount(math.NaN())
	return nil
}
