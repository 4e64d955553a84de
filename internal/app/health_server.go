package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"trade-executor/internal/execution"
	"trade-executor/internal/store"
)

func startHealthServer(ctx context.Context, client execution.ExchangeClient, history *store.History, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		info, err := client.GetAccountInfo(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"can_trade": info.CanTrade,
			"balances":  len(info.Balances),
		}); err != nil {
			logger.Warn("写入健康检查响应失败", zap.Error(err))
		}
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if qs := r.URL.Query().Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 500 {
					v = 500
				}
				limit = v
			}
		}

		records, err := history.ListReports(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			logger.Warn("写入历史查询响应失败", zap.Error(err))
		}
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭健康检查服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("健康检查服务异常", zap.Error(err))
		}
	}()

	logger.Info("健康检查接口已启动", zap.String("addr", addr))
	return nil
}
