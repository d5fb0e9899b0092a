// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"

	appErrors "github.com/Corphon/SekaiHub/internal/errors"
)

// LockManager 统一的会话锁管理器
type LockManager struct {
	sessionLocks map[string]*LockInfo
	globalLock   sync.Mutex
	lockTTL      time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
	// 当前锁被引用的次数，用于防止在使用时被清理
	ReferenceCount int32
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		sessionLocks: make(map[string]*LockInfo),
		lockTTL:      30 * time.Minute,
		stop:         make(chan struct{}),
	}

	lm.startCleanup()
	return lm
}

// acquire 取得会话锁信息并增加引用计数
func (lm *LockManager) acquire(sessionID string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	lockInfo, exists := lm.sessionLocks[sessionID]
	if !exists {
		lockInfo = &LockInfo{Mutex: &sync.RWMutex{}}
		lm.sessionLocks[sessionID] = lockInfo
	}
	lockInfo.LastUsed = time.Now()
	lockInfo.ReferenceCount++
	return lockInfo
}

func (lm *LockManager) release(lockInfo *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	lockInfo.LastUsed = time.Now()
	lockInfo.ReferenceCount--
}

// TryExecuteWithSessionLock 在会话写锁保护下执行操作
// 会话已有进行中的操作时立即返回冲突错误，不排队等待
func (lm *LockManager) TryExecuteWithSessionLock(sessionID string, fn func() error) error {
	lockInfo := lm.acquire(sessionID)
	defer lm.release(lockInfo)

	if !lockInfo.Mutex.TryLock() {
		return appErrors.NewConflictError("会话正在处理另一个请求", nil)
	}
	defer lockInfo.Mutex.Unlock()

	return fn()
}

// ExecuteWithSessionReadLock 在会话读锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionReadLock(sessionID string, fn func() error) error {
	lockInfo := lm.acquire(sessionID)
	defer lm.release(lockInfo)

	lockInfo.Mutex.RLock()
	defer lockInfo.Mutex.RUnlock()

	return fn()
}

// Forget 移除会话锁，正在使用的锁保留到清理时处理
func (lm *LockManager) Forget(sessionID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	if lockInfo, exists := lm.sessionLocks[sessionID]; exists && lockInfo.ReferenceCount == 0 {
		delete(lm.sessionLocks, sessionID)
	}
}

// Stop 停止后台清理
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stop)
	})
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				lm.cleanupUnusedLocks()
			case <-lm.stop:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := time.Now()
	for sessionID, lockInfo := range lm.sessionLocks {
		if lockInfo.ReferenceCount == 0 && now.Sub(lockInfo.LastUsed) > lm.lockTTL {
			delete(lm.sessionLocks, sessionID)
		}
	}
}
