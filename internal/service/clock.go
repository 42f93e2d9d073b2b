package service

import "time"

// Clock 提供当前时间与周期定时器，测试中替换为可手动触发的实现
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker 周期定时器
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// RealClock 返回基于 time 包的时钟
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }

func (r *realTicker) Stop() { r.t.Stop() }
