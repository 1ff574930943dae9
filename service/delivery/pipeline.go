package delivery

import (
	"context"
	"sync"

	"GotMail/global"
	"GotMail/logger"
	"GotMail/module/mailbox/model"
	"GotMail/tools/safe"
)

// Pipeline 投递入口。配了 Kafka 就产消息给消费组; 没配就落进程内
// 分片队列, 消费端跑的都是同一个 Worker。
type Pipeline struct {
	useKafka bool
	inline   *inlineRunner
}

func NewPipeline(w *Worker) *Pipeline {
	if len(Cfg.Brokers) > 0 {
		return &Pipeline{useKafka: true}
	}
	logger.Infof("[Delivery] kafka not configured, delivery runs in-process shards=%d", Cfg.InlineWorkers)
	return &Pipeline{inline: newInlineRunner(w, Cfg.InlineWorkers)}
}

func (p *Pipeline) Enqueue(ctx context.Context, jobs []model.DeliveryJob) error {
	if p.useKafka {
		for _, job := range jobs {
			if err := SendJob(job); err != nil {
				return err
			}
		}
		return nil
	}
	return p.inline.enqueue(jobs)
}

func (p *Pipeline) Close() {
	if p.inline != nil {
		p.inline.close()
	}
}

// inlineRunner 进程内的小号投递管线: 按收件人哈希进固定分片,
// 单分片串行消费, 同收件人的顺序照样成立。
type inlineRunner struct {
	shards []chan model.DeliveryJob
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func newInlineRunner(w *Worker, n int) *inlineRunner {
	if n <= 0 {
		n = 4
	}
	r := &inlineRunner{shards: make([]chan model.DeliveryJob, n)}
	for i := range r.shards {
		ch := make(chan model.DeliveryJob, 256)
		r.shards[i] = ch
		r.wg.Add(1)
		safe.SafeGoNamed("delivery-inline", func() {
			defer r.wg.Done()
			for job := range ch {
				_ = w.Process(context.Background(), job)
			}
		})
	}
	return r
}

func (r *inlineRunner) enqueue(jobs []model.DeliveryJob) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return nil
	}
	for _, job := range jobs {
		i := global.HashPartition(global.DeliveryKey(job.RecipientID), len(r.shards))
		select {
		case r.shards[i] <- job:
		default:
			// 分片积压时宁可丢这跳通知也不阻塞发信请求;
			// 信已经在收件人信箱里了
			logger.Warnf("[Delivery] inline shard %d full, job dropped job=%s", i, job.JobID)
		}
	}
	return nil
}

func (r *inlineRunner) close() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
