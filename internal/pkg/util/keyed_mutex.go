package util

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 256

// KeyedMutex 固定數量的分段鎖，同一個 key 必定落在同一把鎖
// 不同 key 可能共用同一把鎖，持有時不可再鎖其他 key
type KeyedMutex struct {
	stripes []sync.Mutex
}

func NewKeyedMutex(stripes int) *KeyedMutex {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

func (k *KeyedMutex) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(k.stripes)))
}

// Lock 回傳 unlock 函式
func (k *KeyedMutex) Lock(key string) func() {
	m := &k.stripes[k.index(key)]
	m.Lock()
	return m.Unlock
}
