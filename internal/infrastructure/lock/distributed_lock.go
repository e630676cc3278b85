package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：同一订单同时发起两笔支付请求（网络抖动导致重复提交）
//
// 如果没有分布式锁：
//   goroutine1: 查活跃支付单=无 -> 创建支付单A
//   goroutine2: 查活跃支付单=无 -> 创建支付单B   一个订单两条活跃支付单！
//
// 加了按订单维度的锁之后，第二个请求要么等待后查到支付单A直接返回，
// 要么拿锁失败提示稍后重试，收敛到一条支付单。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证原子性
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	// SET key value NX EX timeout
	// EX 设置过期时间，持有锁的进程崩溃时锁会自动释放
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		// 等待一段时间后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 使用 Lua 脚本保证"检查+删除"操作的原子性：
// 先验证 value 是自己的再删除，避免锁过期后误删后来者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：按订单维度的支付锁/退款锁
// ============================================================================
//
// 【设计思考】为什么按订单维度而不是按用户维度加锁？
//
// 结算核心要守住的约束是"一个订单至多一条活跃支付单/退款单"，
// 锁粒度对齐约束粒度：不同订单可以并发支付，同一订单串行。

// NewPaymentLock 创建支付锁（按订单维度）
func NewPaymentLock(client *redis.Client, orderNo, owner string) *DistributedLock {
	key := fmt.Sprintf("payment:lock:order:%s", orderNo)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}

// NewRefundLock 创建退款锁（按订单维度）
func NewRefundLock(client *redis.Client, orderNo, owner string) *DistributedLock {
	key := fmt.Sprintf("refund:lock:order:%s", orderNo)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}

// NewDepositLock 创建押金操作锁（按订单维度）
func NewDepositLock(client *redis.Client, orderNo, owner string) *DistributedLock {
	key := fmt.Sprintf("deposit:lock:order:%s", orderNo)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}
