package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestWaitGroupExitReturnsFastWhenGroupGone(t *testing.T) {
	// pid за пределами kernel pid_max: kill(2) сразу вернёт ESRCH
	start := time.Now()
	assert.True(t, waitGroupExit(1<<22+12345, 2*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitGroupExitTimesOutOnLiveGroup(t *testing.T) {
	// Группа самого тестового процесса жива весь тест
	assert.False(t, waitGroupExit(unix.Getpgrp(), 250*time.Millisecond))
}
