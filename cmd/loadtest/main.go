package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

type claimResult struct {
	Won bool `json:"won"`
}

// 对同一时段并发抢答，检查是否恰好产生一个获胜者
func testClaimRace(base, slotKey string, users int) {
	fmt.Println("=== 测试并发抢答 ===")

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/api/slots/%s/attempts", base, slotKey)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		statuses = make(map[int]int)
	)

	log.Printf("发起 %d 个并发抢答请求: %s", users, url)
	startTime := time.Now()

	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			userID := fmt.Sprintf("load-user-%d", idx)
			req, err := http.NewRequest(http.MethodPost, url, nil)
			if err != nil {
				log.Printf("请求 %d: 创建请求失败: %v", idx+1, err)
				return
			}
			req.Header.Set("X-User-ID", userID)

			resp, err := client.Do(req)
			if err != nil {
				log.Printf("请求 %d: 请求失败: %v", idx+1, err)
				return
			}
			defer resp.Body.Close()

			var res claimResult
			_ = json.NewDecoder(resp.Body).Decode(&res)

			mu.Lock()
			statuses[resp.StatusCode]++
			if resp.StatusCode == http.StatusOK && res.Won {
				winners = append(winners, userID)
			}
			mu.Unlock()
		}(i)
	}

	wg.Wait()

	log.Printf("所有请求完成，耗时: %v", time.Since(startTime))
	log.Printf("状态码分布: %v", statuses)

	switch len(winners) {
	case 1:
		log.Printf("抢答正常！获胜者: %s", winners[0])
	case 0:
		log.Println("没有获胜者，时段可能未开放")
	default:
		log.Printf("抢答异常！产生了 %d 个获胜者: %v", len(winners), winners)
	}
}

// 查询时段最终状态
func printSlot(base, slotKey string) {
	resp, err := http.Get(fmt.Sprintf("%s/api/slots/%s", base, slotKey))
	if err != nil {
		log.Printf("查询时段失败: %v", err)
		return
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	log.Printf("时段状态: %s", buf.String())
}

func main() {
	base := flag.String("addr", "http://localhost:8080", "服务地址")
	slotKey := flag.String("slot", "", "时段key，例如 2024-06-01_0900")
	users := flag.Int("users", 200, "并发用户数")
	flag.Parse()

	if *slotKey == "" {
		log.Fatal("必须通过 -slot 指定时段")
	}

	testClaimRace(*base, *slotKey, *users)
	printSlot(*base, *slotKey)
	fmt.Println("所有测试完成！")
}
